package main

import "github.com/mind-engage/lti-hubsync/cmd/ltisync/cmd"

func main() {
	cmd.Execute()
}
