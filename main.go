package main

import "github.com/dnyoussef/hooklog/internal/cmd"

func main() {
	cmd.Execute()
}
