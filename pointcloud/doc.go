// Package pointcloud implements the fixed-stride binary point store.
//
// A Schema describes the record layout: scaled int32 X/Y/Z, an internal flags
// byte holding the withheld bit, and any number of typed attributes. A Buffer
// owns a contiguous array of records, indexes them in a spatial.Grid as they
// are appended and can migrate to a wider schema without invalidating ids.
//
// Point id i always addresses byte offset i*stride in the buffer.
package pointcloud
