package main

import "github.com/andresmejia3/faceframe/cmd"

func main() {
	cmd.Execute()
}
