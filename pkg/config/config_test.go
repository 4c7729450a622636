package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDecodeDefaults(t *testing.T) {
	c, err := Decode([]byte("substitute-path:\n  - {from: /build, to: /home/src}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.CacheSuffix != DefaultCacheSuffix {
		t.Errorf("cache suffix %q", c.CacheSuffix)
	}
	if !*c.RebuildStale || !*c.StoreCache {
		t.Errorf("rebuild-stale and store-cache should default to true")
	}
	if c.ExprCacheSize != DefaultExprCacheSize {
		t.Errorf("expr cache size %d", c.ExprCacheSize)
	}
	pairs := c.SubstitutePath.Pairs()
	if len(pairs) != 1 || pairs[0] != [2]string{"/build", "/home/src"} {
		t.Errorf("substitute-path %v", pairs)
	}
}

func TestDecodeOverrides(t *testing.T) {
	c, err := Decode([]byte("cache-suffix: .cache\nrebuild-stale: false\nexpr-cache-size: 8\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := c.CachePath("/bin/app"); got != "/bin/app.cache" {
		t.Errorf("cache path %q", got)
	}
	if *c.RebuildStale {
		t.Errorf("rebuild-stale should be false")
	}
	if c.ExprCacheSize != 8 {
		t.Errorf("expr cache size %d", c.ExprCacheSize)
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	old, had := os.LookupEnv(xdgConfigEnv)
	os.Setenv(xdgConfigEnv, dir)
	defer func() {
		if had {
			os.Setenv(xdgConfigEnv, old)
		} else {
			os.Unsetenv(xdgConfigEnv)
		}
	}()

	c := LoadConfig()
	if c.CacheSuffix != DefaultCacheSuffix {
		t.Errorf("cache suffix %q", c.CacheSuffix)
	}
	if _, err := os.Stat(filepath.Join(dir, configDir, configFile)); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
}
