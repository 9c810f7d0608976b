// Command shelftamer ingests a folder of PDF and EPUB files, enriches each
// book with a locally hosted model, and files generated PDF and ePub
// artifacts into a category-organized library.
package main
