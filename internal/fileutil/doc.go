// Package fileutil provides serialized reads and atomic replacement of small
// files that are shared between requests (the credential store, exports).
package fileutil
