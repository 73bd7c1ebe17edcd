// Copyright (c) 2014-2017 Ludovic Fauvet
// Licensed under the MIT license

package network

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/distromirrors/mirrorsd/config"
	"github.com/distromirrors/mirrorsd/database"
	"github.com/gomodule/redigo/redis"
	"golang.org/x/net/html"
)

// CloudProvider identifies one of the public-cloud IP-range catalogues the
// subnet feed can fetch.
type CloudProvider string

const (
	ProviderAWS   CloudProvider = "aws"
	ProviderAzure CloudProvider = "azure"
	ProviderGCP   CloudProvider = "gcp"
	ProviderOCI   CloudProvider = "oci"
)

const (
	awsRangesURL   = "https://ip-ranges.amazonaws.com/ip-ranges.json"
	gcpRangesURL   = "https://www.gstatic.com/ipranges/cloud.json"
	ociRangesURL   = "https://docs.oracle.com/iaas/tools/public_ip_ranges.json"
	azureCatalogURL = "https://www.microsoft.com/en-us/download/confirmation.aspx?id=56519"

	subnetFeedCacheKeyPrefix = "subnetfeed_"
)

var subnetFeedClient = &http.Client{Timeout: 30 * time.Second}

// RegionCIDRs maps a provider's region name to its list of published CIDRs.
type RegionCIDRs map[string][]string

// FetchSubnets returns the region->CIDR map for a provider, fetched fresh
// from the provider on every call and written to the shared cache. On a
// fetch failure it serves the last cached value if one exists
// (transient-failure tolerance per spec §4.2); only a fetch failure with no
// prior cache entry returns an empty map.
func FetchSubnets(r *database.Redis, provider CloudProvider) (RegionCIDRs, error) {
	key := subnetFeedCacheKeyPrefix + string(provider)

	fresh, ferr := fetchProvider(provider)
	if ferr == nil {
		if err := cacheSubnets(r, key, fresh); err != nil {
			log.Warningf("subnetfeed: caching %s ranges failed: %s", provider, err)
		}
		return fresh, nil
	}

	log.Warningf("subnetfeed: fetching %s ranges failed: %s", provider, ferr)

	cached, ok := cachedSubnets(r, key)
	if ok {
		return cached, nil
	}
	return RegionCIDRs{}, ferr
}

func fetchProvider(provider CloudProvider) (RegionCIDRs, error) {
	switch provider {
	case ProviderAWS:
		return fetchAWS()
	case ProviderAzure:
		return fetchAzure()
	case ProviderGCP:
		return fetchGCP()
	case ProviderOCI:
		return fetchOCI()
	default:
		return nil, fmt.Errorf("unknown cloud provider %q", provider)
	}
}

func get(url string) ([]byte, error) {
	resp, err := subnetFeedClient.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

type awsDocument struct {
	Prefixes []struct {
		IPPrefix string `json:"ip_prefix"`
		Region   string `json:"region"`
	} `json:"prefixes"`
	IPv6Prefixes []struct {
		IPv6Prefix string `json:"ipv6_prefix"`
		Region     string `json:"region"`
	} `json:"ipv6_prefixes"`
}

func fetchAWS() (RegionCIDRs, error) {
	body, err := get(awsRangesURL)
	if err != nil {
		return nil, err
	}
	var doc awsDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}

	out := RegionCIDRs{}
	seen := map[string]bool{}
	for _, p := range doc.Prefixes {
		k := p.Region + "|" + p.IPPrefix
		if seen[k] {
			continue
		}
		seen[k] = true
		out[p.Region] = append(out[p.Region], p.IPPrefix)
	}
	for _, p := range doc.IPv6Prefixes {
		k := p.Region + "|" + p.IPv6Prefix
		if seen[k] {
			continue
		}
		seen[k] = true
		out[p.Region] = append(out[p.Region], p.IPv6Prefix)
	}
	return out, nil
}

type gcpDocument struct {
	Prefixes []struct {
		IPv4Prefix string `json:"ipv4Prefix"`
		IPv6Prefix string `json:"ipv6Prefix"`
		Scope      string `json:"scope"`
	} `json:"prefixes"`
}

func fetchGCP() (RegionCIDRs, error) {
	body, err := get(gcpRangesURL)
	if err != nil {
		return nil, err
	}
	var doc gcpDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}

	out := RegionCIDRs{}
	for _, p := range doc.Prefixes {
		switch {
		case p.IPv4Prefix != "":
			out[p.Scope] = append(out[p.Scope], p.IPv4Prefix)
		case p.IPv6Prefix != "":
			out[p.Scope] = append(out[p.Scope], p.IPv6Prefix)
		}
	}
	return out, nil
}

type ociDocument struct {
	Regions []struct {
		Region string `json:"region"`
		CIDRs  []struct {
			CIDR string `json:"cidr"`
		} `json:"cidrs"`
	} `json:"regions"`
}

func fetchOCI() (RegionCIDRs, error) {
	body, err := get(ociRangesURL)
	if err != nil {
		return nil, err
	}
	var doc ociDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}

	out := RegionCIDRs{}
	for _, r := range doc.Regions {
		for _, c := range r.CIDRs {
			out[r.Region] = append(out[r.Region], c.CIDR)
		}
	}
	return out, nil
}

type azureDocument struct {
	Values []struct {
		Name       string `json:"name"`
		Properties struct {
			AddressPrefixes []string `json:"addressPrefixes"`
		} `json:"properties"`
	} `json:"values"`
}

// fetchAzure scrapes the Microsoft download-confirmation page for the
// "Azure IP Ranges and Service Tags - Public Cloud" download anchor, then
// fetches and parses the JSON document it points to. Azure publishes no
// stable direct URL for this file; the landing page is the documented way
// to discover the current one.
func fetchAzure() (RegionCIDRs, error) {
	body, err := get(azureCatalogURL)
	if err != nil {
		return nil, err
	}

	docURL, err := findAzureDownloadLink(body)
	if err != nil {
		return nil, err
	}

	raw, err := get(docURL)
	if err != nil {
		return nil, err
	}

	var doc azureDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	out := RegionCIDRs{}
	for _, v := range doc.Values {
		if !strings.HasPrefix(v.Name, "AzureCloud.") && v.Name != "AzureCloud" {
			continue
		}
		region := strings.TrimPrefix(v.Name, "AzureCloud.")
		out[region] = append(out[region], v.Properties.AddressPrefixes...)
	}
	return out, nil
}

// findAzureDownloadLink walks the HTML tokens for the first <a> tag whose
// href contains "download.microsoft.com" and ends in ".json" - the shape of
// the "click here to download manually" button on the confirmation page.
func findAzureDownloadLink(page []byte) (string, error) {
	z := html.NewTokenizer(strings.NewReader(string(page)))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return "", fmt.Errorf("azure download link not found")
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "a" {
				continue
			}
			for _, attr := range tok.Attr {
				if attr.Key != "href" {
					continue
				}
				if strings.Contains(attr.Val, "download.microsoft.com") && strings.HasSuffix(attr.Val, ".json") {
					return attr.Val, nil
				}
			}
		}
	}
}

func cacheSubnets(r *database.Redis, key string, regions RegionCIDRs) error {
	if r == nil {
		return nil
	}
	blob, err := json.Marshal(regions)
	if err != nil {
		return err
	}
	conn := r.Get()
	defer conn.Close()
	_, err = conn.Do("SET", key, blob, "EX", config.GetConfig().SubnetFeedCacheExpire)
	return err
}

func cachedSubnets(r *database.Redis, key string) (RegionCIDRs, bool) {
	if r == nil {
		return nil, false
	}
	conn := r.Get()
	defer conn.Close()
	blob, err := redis.Bytes(conn.Do("GET", key))
	if err != nil {
		return nil, false
	}
	var regions RegionCIDRs
	if err := json.Unmarshal(blob, &regions); err != nil {
		return nil, false
	}
	return regions, true
}

// CIDRsForRegions flattens the region->CIDR map down to the CIDRs declared
// for the given regions, deduplicated.
func CIDRsForRegions(regions RegionCIDRs, wanted []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, region := range wanted {
		for _, cidr := range regions[region] {
			if seen[cidr] {
				continue
			}
			seen[cidr] = true
			out = append(out, cidr)
		}
	}
	return out
}
