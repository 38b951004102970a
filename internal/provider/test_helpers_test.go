package provider_test

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-testing/helper/resource"
	"github.com/hashicorp/terraform-plugin-testing/terraform"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

// Test environment configuration constants.
const (
	EnvTestHostname     = "LDAP_TEST_HOSTNAME"
	EnvTestPort         = "LDAP_TEST_PORT"
	EnvTestBindDN       = "LDAP_TEST_BIND_DN"
	EnvTestBindPassword = "LDAP_TEST_BIND_PASSWORD"
	EnvTestRootDN       = "LDAP_TEST_ROOT_DN"
	EnvTestEncryption   = "LDAP_TEST_ENCRYPTION"

	DefaultTestRootDN = "dc=example,dc=com"

	// Test entry name prefix to avoid conflicts.
	TestEntryPrefix = "tf-test-"
)

// TestConfig holds the directory used by acceptance tests.
type TestConfig struct {
	Hostname     string
	Port         int
	BindDN       string
	BindPassword string
	RootDN       string
	Encryption   string
}

// GetTestConfig returns the test configuration from environment variables.
func GetTestConfig() *TestConfig {
	port, _ := strconv.Atoi(os.Getenv(EnvTestPort))
	return &TestConfig{
		Hostname:     os.Getenv(EnvTestHostname),
		Port:         port,
		BindDN:       os.Getenv(EnvTestBindDN),
		BindPassword: os.Getenv(EnvTestBindPassword),
		RootDN:       getEnvWithDefault(EnvTestRootDN, DefaultTestRootDN),
		Encryption:   getEnvWithDefault(EnvTestEncryption, "none"),
	}
}

// IsAccTest returns true if acceptance tests should run.
func IsAccTest() bool {
	return os.Getenv("TF_ACC") != ""
}

// SkipIfNotAccTest skips the test if TF_ACC is not set.
func SkipIfNotAccTest(t *testing.T) {
	if !IsAccTest() {
		t.Skip("Skipping acceptance test - set TF_ACC=1 to run")
	}
}

func testAccPreCheck(t *testing.T) {
	SkipIfNotAccTest(t)

	config := GetTestConfig()
	if config.Hostname == "" {
		t.Skipf("Skipping test: %s must be set", EnvTestHostname)
	}
	if config.BindDN != "" && config.BindPassword == "" {
		t.Skipf("Skipping test: %s must be set together with %s", EnvTestBindPassword, EnvTestBindDN)
	}
}

// testProviderConfig generates provider configuration for tests.
func testProviderConfig() string {
	config := GetTestConfig()

	var b strings.Builder
	b.WriteString("provider \"ldap\" {\n")
	fmt.Fprintf(&b, "  hostname   = %q\n", config.Hostname)
	if config.Port != 0 {
		fmt.Fprintf(&b, "  port       = %d\n", config.Port)
	}
	fmt.Fprintf(&b, "  root_dn    = %q\n", config.RootDN)
	fmt.Fprintf(&b, "  encryption = %q\n", config.Encryption)
	if config.BindDN != "" {
		fmt.Fprintf(&b, "  bind_dn       = %q\n", config.BindDN)
		fmt.Fprintf(&b, "  bind_password = %q\n", config.BindPassword)
	}
	b.WriteString("}\n")
	return b.String()
}

// GenerateTestName generates a unique test name with timestamp.
func GenerateTestName(prefix string) string {
	timestamp := time.Now().Format("20060102-150405")
	shortUUID := uuid.New().String()[:8]
	return fmt.Sprintf("%s%s-%s", prefix, timestamp, shortUUID)
}

// testAccConnection runs fn on a connection to the test directory.
func testAccConnection(fn func(ctx context.Context, c *ldapclient.Connection) error) error {
	config := GetTestConfig()
	encryption, err := ldapclient.ParseEncryption(config.Encryption)
	if err != nil {
		return err
	}

	cfg := ldapclient.DefaultConfig()
	cfg.Hostname = config.Hostname
	cfg.Port = config.Port
	cfg.BindDN = config.BindDN
	cfg.BindPassword = config.BindPassword
	cfg.RootDN = config.RootDN
	cfg.Encryption = encryption
	if cfg.Port == 0 && encryption == ldapclient.EncryptionLDAPS {
		cfg.Port = 636
	}

	ctx := context.Background()
	pool, err := ldapclient.NewConnectionPool(ctx, cfg, 1)
	if err != nil {
		return fmt.Errorf("failed to create LDAP connection pool: %w", err)
	}
	defer pool.Close(ctx)

	return pool.With(ctx, func(c *ldapclient.Connection) error {
		return fn(ctx, c)
	})
}

// testAccCheckEntryExists verifies that the entry of resourceName exists.
func testAccCheckEntryExists(resourceName string) resource.TestCheckFunc {
	return func(s *terraform.State) error {
		rs, ok := s.RootModule().Resources[resourceName]
		if !ok {
			return fmt.Errorf("resource not found: %s", resourceName)
		}
		if rs.Primary.ID == "" {
			return fmt.Errorf("resource ID not set")
		}

		return testAccConnection(func(ctx context.Context, c *ldapclient.Connection) error {
			exists, err := c.HasDN(ctx, rs.Primary.ID)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("entry %s does not exist", rs.Primary.ID)
			}
			return nil
		})
	}
}

// testAccCheckEntryDestroy verifies that all test entries are destroyed.
func testAccCheckEntryDestroy(s *terraform.State) error {
	return testAccConnection(func(ctx context.Context, c *ldapclient.Connection) error {
		for _, rs := range s.RootModule().Resources {
			if rs.Type != "ldap_entry" {
				continue
			}
			exists, err := c.HasDN(ctx, rs.Primary.ID)
			if err != nil {
				return fmt.Errorf("unexpected error checking entry %s: %w", rs.Primary.ID, err)
			}
			if exists {
				return fmt.Errorf("entry %s still exists", rs.Primary.ID)
			}
		}
		return nil
	})
}

// testAccCheckEntryDisappears deletes the entry outside of Terraform.
func testAccCheckEntryDisappears(resourceName string) resource.TestCheckFunc {
	return func(s *terraform.State) error {
		rs, ok := s.RootModule().Resources[resourceName]
		if !ok {
			return fmt.Errorf("resource not found: %s", resourceName)
		}

		return testAccConnection(func(ctx context.Context, c *ldapclient.Connection) error {
			_, err := c.DeleteRecursively(ctx, rs.Primary.ID)
			return err
		})
	}
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
