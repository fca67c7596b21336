package main

import "github.com/bpp-build/bpp/cmd/bpp/internal"

func main() {
	internal.Execute()
}
