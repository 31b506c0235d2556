// Package storage connects hubcap to external storage services.
//
// S3Fetcher backs the "s3" repository kind: module files under a bucket prefix are mirrored
// into a local cache directory before every inspection, then inspected in isolation like a
// directory repository. The kind is registered when this package is imported.
//
//	repositories:
//	  - kind: s3
//	    settings:
//	      bucket: plugins
//	      prefix: prod/
//	      region: us-east-1
//	      endpoint: http://minio:9000   # optional, S3 compatible stores
//	      path_style: 1
//
// RedisPublisher is a repository.Observer that publishes every generation's records to Redis
// and announces inspections on a channel, so that other services can follow the registry. It
// also relays refresh requests published by other replicas.
package storage
