package main

import "github.com/primait/lambda-deploy/cmd"

func main() {
	cmd.Execute()
}
