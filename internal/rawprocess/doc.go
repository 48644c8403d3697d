// Package rawprocess implements the process_raw stage: it identifies each
// photo file and, for anything that is not already a JPEG or PNG, runs the
// configured RAW converter to produce a JPEG rendition under raw_dir.
package rawprocess
