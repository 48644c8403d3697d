// Package thumbnails implements the generate_thumbnails stage and the path
// layout of generated thumbnails:
//
//	<thumbnail_dir>/photofile/<W>x<H>_<crop>_q<Q>/<file_id>.jpg
//
// "cover" fills the box and crops the overflow; "contain" fits the whole
// image inside the box.
package thumbnails
