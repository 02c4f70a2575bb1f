package buildsys

import (
	"encoding/gob"
	"os"
	"time"

	"github.com/rotisserie/eris"
)

func init() {
	gob.Register(TaskList{})
	gob.Register(Task{})
	gob.Register(TaskCmdScript{})
	gob.Register(TaskCmdTaskRef{})
	gob.Register(TaskCmdStep{})
}

// CacheKey identifies the script run that produced a cached task list
type CacheKey struct {
	Script  string
	ModTime time.Time
	Options map[string]string
}

// ErrStaleCache is returned by ReadCache if the cache was written for a different key
var ErrStaleCache = eris.New("task cache is stale")

func (k CacheKey) matches(other CacheKey) bool {
	if k.Script != other.Script || !k.ModTime.Equal(other.ModTime) || len(k.Options) != len(other.Options) {
		return false
	}

	for name, value := range k.Options {
		if otherValue, ok := other.Options[name]; !ok || otherValue != value {
			return false
		}
	}
	return true
}

// ScriptCacheKey builds the key for the task script at path
func ScriptCacheKey(path string, options map[string]string) (CacheKey, error) {
	info, err := os.Stat(path)
	if err != nil {
		return CacheKey{}, eris.Wrapf(err, "failed to check %s", path)
	}

	if options == nil {
		options = map[string]string{}
	}

	return CacheKey{
		Script:  path,
		ModTime: info.ModTime(),
		Options: options,
	}, nil
}

func WriteCache(file string, key CacheKey, list TaskList) error {
	handle, err := os.Create(file)
	if err != nil {
		return err
	}
	defer handle.Close()

	encoder := gob.NewEncoder(handle)
	err = encoder.Encode(key)
	if err != nil {
		return err
	}

	return encoder.Encode(list)
}

// ReadCache loads a task list written by WriteCache. It returns ErrStaleCache if the file was
// written for another key.
func ReadCache(file string, key CacheKey) (TaskList, error) {
	handle, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	decoder := gob.NewDecoder(handle)

	var cachedKey CacheKey
	err = decoder.Decode(&cachedKey)
	if err != nil {
		return nil, err
	}

	if !key.matches(cachedKey) {
		return nil, ErrStaleCache
	}

	var result TaskList
	err = decoder.Decode(&result)
	if err != nil {
		return nil, err
	}

	return result, nil
}
