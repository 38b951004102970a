package provider_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-testing/helper/resource"
	"github.com/stretchr/testify/assert"

	"github.com/isometry/terraform-provider-ldap/internal/provider"
)

func TestCredentialsDataSource_Schema(t *testing.T) {
	dataSource := provider.NewCredentialsDataSource()

	resp := &datasource.SchemaResponse{}
	dataSource.Schema(context.Background(), datasource.SchemaRequest{}, resp)

	assert.False(t, resp.Diagnostics.HasError())
	assert.True(t, resp.Schema.Attributes["dn"].IsRequired())
	assert.True(t, resp.Schema.Attributes["password"].IsSensitive())
	assert.True(t, resp.Schema.Attributes["valid"].IsComputed())
}

func TestAccCredentialsDataSource_basic(t *testing.T) {
	config := GetTestConfig()

	resource.Test(t, resource.TestCase{
		PreCheck: func() {
			testAccPreCheck(t)
			if config.BindDN == "" {
				t.Skipf("Skipping test: %s must be set", EnvTestBindDN)
			}
		},
		ProtoV6ProviderFactories: testAccProtoV6ProviderFactories,
		Steps: []resource.TestStep{
			{
				Config: testAccCredentialsDataSourceConfig(config.BindDN, config.BindPassword),
				Check:  resource.TestCheckResourceAttr("data.ldap_credentials.test", "valid", "true"),
			},
			{
				Config: testAccCredentialsDataSourceConfig(config.BindDN, config.BindPassword+"-wrong"),
				Check:  resource.TestCheckResourceAttr("data.ldap_credentials.test", "valid", "false"),
			},
			{
				Config: testAccCredentialsDataSourceConfig(config.BindDN, ""),
				Check:  resource.TestCheckResourceAttr("data.ldap_credentials.test", "valid", "false"),
			},
		},
	})
}

func testAccCredentialsDataSourceConfig(dn, password string) string {
	return fmt.Sprintf(`
%s
data "ldap_credentials" "test" {
  dn       = %q
  password = %q
}
`, testProviderConfig(), dn, password)
}
