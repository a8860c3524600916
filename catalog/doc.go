// Package catalog describes a collection of point files and splits it into
// chunks.
//
// A chunk is the unit of out-of-core processing: a core region plus a
// buffer margin, the files that cover the core (main files) and the files
// that only contribute points to the margin (neighbour files).
package catalog
