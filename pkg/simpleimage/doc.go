// Package simpleimage provides an image management library with pluggable
// object storage, metadata storage, vision and identity backends.
//
// Three services sit on top of the capability interfaces: UploadService
// stores an image and writes its metadata stub, Pipeline enriches metadata
// asynchronously from object storage events, and QueryService lists, fetches
// and deletes metadata scoped to the calling subject. OCRService runs one-shot
// text detection without storing anything.
//
// Document Identity
//
// A metadata document id is derived from the object path alone (see
// DocumentID), so any event that names an object can locate its document
// without an index. Enrichment writes are merges over that id, which keeps
// redelivered and reordered events convergent. Deletion removes the document
// outright; there are no tombstones.
package simpleimage
