// Command hncrawler archives Hacker News stories and their comment trees.
package main

import "github.com/JakeFAU/hn-archive-crawler/cmd"

func main() {
	cmd.Execute()
}
