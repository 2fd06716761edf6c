// Package segm turns background-corrected frames into labeled object
// images. The only shipped approach is fixed thresholding with
// morphological mask postprocessing, matching what acquisition
// software applies online.
package segm
