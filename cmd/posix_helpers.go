package cmd

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

// expandArgs resolves glob patterns on Windows where the shell doesn't do it for us
func expandArgs(args []string, allowEmpty bool) ([]string, error) {
	if runtime.GOOS != "windows" {
		return args, nil
	}

	items := make([]string, 0, len(args))
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", arg)
		}

		if matches == nil {
			if allowEmpty {
				continue
			}
			return nil, eris.Errorf("pattern %s produced no matches", arg)
		}

		items = append(items, matches...)
	}

	return items, nil
}

// movePaths moves items into dest. A single item may be renamed to dest if dest isn't a directory.
func movePaths(items []string, dest string) error {
	dest = filepath.Clean(dest)
	destParent := filepath.Dir(dest)
	info, err := os.Stat(destParent)
	if err != nil {
		return eris.Wrapf(err, "could not find destination directory %s", destParent)
	}

	if !info.IsDir() {
		return eris.Errorf("%s is not a directory", destParent)
	}

	destIsDir := false
	info, err = os.Stat(dest)
	if err == nil {
		destIsDir = info.IsDir()
	} else if !eris.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "failed to retrieve info about destination %s", dest)
	}

	if len(items) > 1 && !destIsDir {
		return eris.Errorf("can't move multiple items to %s because it is not a directory", dest)
	}

	for _, item := range items {
		itemDest := dest
		if destIsDir {
			itemDest = filepath.Join(dest, filepath.Base(item))
		}

		err = os.Rename(item, itemDest)
		if err != nil {
			return eris.Wrapf(err, "failed to move %s to %s", item, itemDest)
		}
	}

	return nil
}

// removePaths checks every item before deleting anything
func removePaths(items []string, recursive, force bool) error {
	existing := make([]string, 0, len(items))
	for _, item := range items {
		info, err := os.Stat(item)
		if err != nil {
			if force && eris.Is(err, os.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "could not stat %s", item)
		}

		if info.IsDir() && !recursive {
			return eris.Errorf("%s is a directory but -r wasn't passed", item)
		}
		existing = append(existing, item)
	}

	for _, item := range existing {
		err := os.RemoveAll(item)
		if err != nil {
			return eris.Wrapf(err, "could not delete %s", item)
		}
	}

	return nil
}

func makeDirs(items []string, parents bool) error {
	for _, item := range items {
		var err error
		if parents {
			err = os.MkdirAll(item, 0o770)
		} else {
			err = os.Mkdir(item, 0o770)
		}

		if err != nil {
			return eris.Wrapf(err, "failed to create %s", item)
		}
	}

	return nil
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "mv <source...> <dest>",
		Short:  "Cross-platform implementation of the POSIX mv command",
		Hidden: true,
		Args:   cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := expandArgs(args[:len(args)-1], false)
			if err != nil {
				return err
			}

			return movePaths(items, args[len(args)-1])
		},
	}
}

func newRmCmd() *cobra.Command {
	var recursive, force bool
	cmd := &cobra.Command{
		Use:    "rm <paths...>",
		Short:  "Cross-platform implementation of the POSIX rm command",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := expandArgs(args, force)
			if err != nil {
				return err
			}

			return removePaths(items, recursive, force)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "recursively delete directories")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "suppresses errors caused by missing files/folders")

	return cmd
}

func newMkdirCmd() *cobra.Command {
	var parents bool
	cmd := &cobra.Command{
		Use:    "mkdir <paths...>",
		Short:  "Cross-platform implementation of the POSIX mkdir command",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return makeDirs(args, parents)
		},
	}
	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "create parent directories as needed")

	return cmd
}
