// Package image builds key cancellation and decommission images.
//
// An image is a fixed header followed by zero or more sections, an optional
// signature and an uncounted public key blob. Every multi-byte integer is
// little-endian.
//
// # Pipeline
//
// The package covers every stage except signing:
//
//  1. LoadDescriptor / ParseDescriptor: XML description to Descriptor
//  2. ExtractPayloads: resolve each section's regions against the input image
//  3. ValidateGeometry: reject empty images and overlapping write addresses
//  4. PackSections: add the 18 byte section headers
//  5. Assemble: serialize header and sections, computing every length field
//  6. Emit / WriteFile: append signature and public key blob, write atomically
//
// Signing lives in package signing and operates on Image.Body.
//
// # Example
//
//	desc, err := image.LoadDescriptor("cancel.xml")
//	if err != nil {
//	    return err
//	}
//	sections, err := image.ExtractPayloads(desc, blob)
//	if err != nil {
//	    return err
//	}
//	if err := image.ValidateGeometry(sections); err != nil {
//	    return err
//	}
//	img, err := image.Assemble(desc, image.PackSections(sections), 0)
//	if err != nil {
//	    return err
//	}
//	_, err = image.WriteFile("cancel.bin", &img.Header, img.Body, nil, nil)
//
// # Reading Images
//
// Parse and ParseFile decode an emitted image back into its header,
// sections, signature and trailing public key blob.
package image
