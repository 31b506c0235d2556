// Package isolation inspects module files in disposable child processes.
//
// Go cannot unload code once it has been loaded into a process, so every module file is
// opened by a short-lived copy of the host binary. The child loads the module, runs the
// inspector and writes a JSON report to file descriptor 3; anything the module prints goes
// to the parent's standard error. A module that crashes, hangs or exits only takes its own
// child down.
//
// Binaries that inspect directories must call Init before doing anything else:
//
//	func main() {
//		if isolation.Init() {
//			return
//		}
//		...
//	}
package isolation
