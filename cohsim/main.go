// Command cohsim runs directory-based cache-coherence simulations.
package main

import "github.com/sarchlab/cohsim/cohsim/cmd"

func main() {
	cmd.Execute()
}
