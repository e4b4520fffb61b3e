// Command restctl sends requests to the API through the restlimit
// dispatcher, honouring the server's bucket and global rate limits.
package main

import "github.com/ryhazerus/restlimit/cmd/restctl/cmd"

func main() {
	cmd.Execute()
}
