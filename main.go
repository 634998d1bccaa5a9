package main

import "github.com/framer-cd/framer/cmd/root"

func main() {
	root.Execute()
}
