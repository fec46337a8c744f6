// Package s3 provides a blobstore backend on Amazon S3, with an optional
// DynamoDB publish marker for coordinating readers across a cluster.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("datasets/ogbn-papers100M/wholegraph/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	err = blobstore.Mirror(ctx, fs.Default, shardDir, store, blobstore.MirrorOptions{})
//
// # Features
//
//   - Range reads for partial shard fetches
//   - Multipart uploads sized for multi-gigabyte shard files
//   - Automatic pagination for listing
//   - Conditional-write publish markers via DynamoDB
package s3
