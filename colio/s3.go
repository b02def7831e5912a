package colio

import (
	"sync"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
)

var registerS3Once sync.Once

// RegisterS3 registers the "s3://" scheme with github.com/grailbio/base/file,
// so that NewLocalBackendWithDict (despite its name -- it really means
// "file.Open-backed") can open a cohort_table URI that lives in S3 as
// readily as one on the local filesystem. Safe to call more than once; the
// registration only happens the first time.
//
// cohort_table and filter_table config values (spec.md §6) may be S3 URIs;
// the caller (cmd/gnarly-extract) calls RegisterS3 once at startup before
// constructing any Reader.
func RegisterS3() {
	registerS3Once.Do(func() {
		file.RegisterImplementation("s3", func() file.Implementation {
			return s3file.NewImplementation(s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
		})
	})
}
