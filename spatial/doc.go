// Package spatial provides the geometric primitives and the uniform grid index
// used to locate points by their planimetric position.
//
// The grid stores, per occupied cell, the ids of the points that fell into it as
// coalesced ascending intervals. Queries return a superset of the matching ids;
// callers re-check exact containment with a Shape.
package spatial
