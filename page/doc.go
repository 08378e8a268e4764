// Package page defines the fixed-size page, the unit of storage and I/O.
//
// Every allocated page starts with an 8-byte owner tag:
//
//	offset 0: owning ClientID (uint32, little endian)
//	offset 4: chainNext PageID (uint32, little endian)
//
// The remaining bytes ([Page.Body]) belong to the client, typically a
// slotted node (see package node). Free pages reuse bytes 0..4 as the
// free-list link, so a tag is only meaningful while the page is allocated.
package page
