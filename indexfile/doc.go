// Package indexfile builds and reads the companion spatial index of a point
// file.
//
// The index divides the file extent into square cells whose size depends on
// the extent (10 map units below 1 km up to 100 000 above 1000 km) and
// records, per cell, the ids of the points that fall in it as a roaring
// bitmap. Ids are the record positions in the file, so the index stays valid
// as long as the file is not reordered.
//
// The on-disk form is a fixed little-endian header followed by a zstd
// compressed body protected by a CRC-32.
package indexfile
