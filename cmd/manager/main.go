package main

import "github.com/ramiqadoumi/go-task-pool/services/manager/cli"

func main() {
	cli.Execute()
}
