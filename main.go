package main

import "github.com/lanstead/dhcpc/internal/cmd"

func main() {
	cmd.Main()
}
