// Package buildsys implements the task runner behind the asset pipeline. Tasks are declared in a
// Starlark script, shell commands run through mvdan.cc/sh and the built-in pipeline steps are
// registered by other packages through RegisterStep.
// Task dependencies form a DAG which is validated before anything runs and executed level by level.
package buildsys
