// Package extract decodes book files into page text. Decoders exist for PDF
// and EPUB containers; the page budget is applied by callers through
// PageSet.Budget so model input stays bounded while emitters keep the full
// text.
package extract
