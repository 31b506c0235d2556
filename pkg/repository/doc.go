// Package repository implements the configured sources of capability records: a single
// module resident in the host, a directory of module files inspected in isolation, or a
// remote location mirrored into a local directory.
package repository
