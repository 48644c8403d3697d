// Package pipeline owns the stage graph of a photo:
//
//	process_raw -> generate_thumbnails -> classify_images
//
// classify_images is a parent task. Fanning it out creates one
// classify.<kind> child per kind that is both registered and enabled for the
// photo's library; the parent completes once every child is terminal.
//
// Status transitions of a child and re-evaluation of its parent are two
// explicit steps. CompleteTask and FailTask perform both; the fan-in
// evaluator (Settle) is safe to run any number of times.
package pipeline
