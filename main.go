// The main package for the enricher executable.
package main

import (
	"github.com/JakeFAU/profile-email-enricher/cmd"
)

func main() {
	cmd.Execute()
}
