// Package process provides a runtime that executes conversion jobs as local
// shell processes.
//
// Jobs are launched in their own process group so signals aimed at the job
// never reach the supervising application. Full tree termination relies on
// walking the launched process's descendants; when that walk is unavailable
// the teardown degrades to a single platform-native forceful kill (a group
// signal on POSIX, taskkill on Windows) and says so through the termination
// diagnostics.
package process
