package s3

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestSignedURLIsPresigned(t *testing.T) {
	c, err := New(Options{
		Bucket:       "renders",
		Region:       "us-east-1",
		AccessKey:    "AKIDEXAMPLE",
		SecretKey:    "secret",
		Endpoint:     "http://minio.local:9000",
		UsePathStyle: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := c.GetSignedURL(context.Background(), "renders/job-1/out.mp4", 15*time.Minute)
	if err != nil {
		t.Fatalf("GetSignedURL: %v", err)
	}
	u, err := url.Parse(out.URL)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "minio.local:9000" || !strings.HasPrefix(u.Path, "/renders/renders/job-1/out.mp4") {
		t.Errorf("presigned URL = %s", out.URL)
	}
	if u.Query().Get("X-Amz-Expires") != "900" || u.Query().Get("X-Amz-Signature") == "" {
		t.Errorf("missing signature params: %s", u.RawQuery)
	}
	if c.Provider() != "s3" {
		t.Errorf("Provider = %s", c.Provider())
	}
}
