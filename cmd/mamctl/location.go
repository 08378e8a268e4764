package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hupe1980/mamstore/blobstore"
	"github.com/hupe1980/mamstore/blobstore/minio"
	"github.com/hupe1980/mamstore/blobstore/s3"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3 Express One Zone directory buckets end in --<azid>--x-s3.
const expressSuffix = "--x-s3"

// location is a parsed backup location.
type location struct {
	scheme   string // file, s3 or minio
	endpoint string // minio only
	bucket   string
	prefix   string
	dir      string // file only
	insecure bool   // minio only, from ?insecure=true
}

func parseLocation(raw string) (location, error) {
	if !strings.Contains(raw, "://") {
		return location{scheme: "file", dir: filepath.Clean(raw)}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return location{}, fmt.Errorf("parse location %q: %w", raw, err)
	}

	switch u.Scheme {
	case "file":
		if u.Path == "" {
			return location{}, fmt.Errorf("location %q: missing directory", raw)
		}
		return location{scheme: "file", dir: filepath.Clean(u.Path)}, nil
	case "s3":
		if u.Host == "" {
			return location{}, fmt.Errorf("location %q: missing bucket", raw)
		}
		return location{scheme: "s3", bucket: u.Host, prefix: strings.Trim(u.Path, "/")}, nil
	case "minio":
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		if u.Host == "" || bucket == "" {
			return location{}, fmt.Errorf("location %q: want minio://endpoint/bucket[/prefix]", raw)
		}
		return location{
			scheme:   "minio",
			endpoint: u.Host,
			bucket:   bucket,
			prefix:   strings.Trim(prefix, "/"),
			insecure: u.Query().Get("insecure") == "true",
		}, nil
	default:
		return location{}, fmt.Errorf("location %q: unsupported scheme %q", raw, u.Scheme)
	}
}

func (l location) String() string {
	switch l.scheme {
	case "s3":
		return "s3://" + l.bucket + "/" + l.prefix
	case "minio":
		return "minio://" + l.endpoint + "/" + l.bucket + "/" + l.prefix
	default:
		return "file://" + l.dir
	}
}

func openLocation(ctx context.Context, raw string, cf *commonFlags) (blobstore.Store, error) {
	loc, err := parseLocation(raw)
	if err != nil {
		return nil, err
	}
	if cf.ddb != "" && loc.scheme != "s3" {
		return nil, errors.New("-ddb-table requires an s3 location")
	}

	switch loc.scheme {
	case "s3":
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
			if ep := os.Getenv("S3_ENDPOINT"); ep != "" {
				o.BaseEndpoint = aws.String(ep)
				o.UsePathStyle = true
			}
		})
		var store blobstore.Store = s3.NewStore(client, loc.bucket, loc.prefix)
		if strings.HasSuffix(loc.bucket, expressSuffix) {
			store = s3.NewExpressStore(client, loc.bucket, loc.prefix)
		}
		if cf.ddb != "" {
			store = s3.NewDDBCommitStore(store, dynamodb.NewFromConfig(cfg), cf.ddb, loc.String())
		}
		return store, nil
	case "minio":
		client, err := miniogo.New(loc.endpoint, &miniogo.Options{
			Creds:  credentials.NewStaticV4(os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY"), ""),
			Secure: !loc.insecure,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return minio.NewStore(client, loc.bucket, loc.prefix), nil
	default:
		return blobstore.NewLocalStore(loc.dir), nil
	}
}
