// Command bizcrawler runs the business-directory crawler.
package main

import "github.com/JakeFAU/bizdirectory-crawler/cmd"

func main() {
	cmd.Execute()
}
