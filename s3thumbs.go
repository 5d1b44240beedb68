// Serve resized image thumbnails from an S3-compatible object store.
package main

import (
	"github.com/s3thumbs/s3thumbs/cmd"
	_ "github.com/s3thumbs/s3thumbs/cmd/provision"
	_ "github.com/s3thumbs/s3thumbs/cmd/serve"
	_ "github.com/s3thumbs/s3thumbs/cmd/version"
)

func main() {
	cmd.Execute()
}
