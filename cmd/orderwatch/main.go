// Command orderwatch is the CLI for the BSE order-award scrape client.
package main

import "github.com/bseorders/orderwatch/internal/cli"

func main() {
	cli.Execute()
}
