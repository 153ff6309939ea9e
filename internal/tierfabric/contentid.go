package tierfabric

import (
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// contentID computes a CIDv1/raw/sha2-256 identifier over raw data-item
// bytes. blobStore writes store this string alongside the ANS-104 id as
// S3 object metadata so the bucket remains independently content-
// addressable and verifiable without trusting the caller-supplied id.
func contentID(raw []byte) (string, error) {
	sum, err := mh.Sum(raw, mh.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}
