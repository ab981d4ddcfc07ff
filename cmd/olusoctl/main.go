// Command olusoctl administers an Oluso IdP deployment directly against its
// MongoDB storage: registering clients, provisioning users and applying
// journey policies.
package main

import "go.oluso.dev/idp/cmd/olusoctl/cmd"

func main() {
	cmd.Execute()
}
