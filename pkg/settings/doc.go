// Package settings implements the settings bag handed to repositories: an ordered map from
// string keys to primitive values (string, bool, int64, float64).
package settings
