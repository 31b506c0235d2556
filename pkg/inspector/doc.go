// Package inspector turns a loaded module into capability records.
package inspector
