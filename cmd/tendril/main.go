// Command tendril runs the demo application and inspects stores.
package main

import "github.com/jacentio/tendril/internal/cli"

func main() {
	cli.Execute()
}
