// Command portguard is the single binary that plays every role in the
// system: tunnel client, tunnel server, and the key/config tooling that
// stamps client executables.
package main

func main() {
	Execute()
}
