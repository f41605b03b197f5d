package biopb

// Coord identifies a record's genomic sort position: reference ID, 0-based
// position, and a tie-breaking sequence number for multiple records that
// start at the same position.
//
// The canonical definition of this message lives in coord.proto and is
// normally generated by protoc-gen-gogofaster; the generated marshal/
// unmarshal code is omitted here since nothing in this tree serializes
// Coord over the wire.
type Coord struct {
	RefId int32
	Pos   int32
	Seq   int32
}

// CoordRange is a half-open range [Start, Limit) of Coord.
type CoordRange struct {
	Start Coord
	Limit Coord
}
</content>
