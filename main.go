package main

import "github.com/poma-prs/poma-static-project/cmd"

func main() {
	cmd.Execute()
}
