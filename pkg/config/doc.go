// Package config loads fastexcel configuration.
//
// Settings come from three layers, each overriding the one before it:
// built-in defaults, a YAML file (fastexcel.yaml) and FASTEXCEL_*
// environment variables. Command line flags are applied by the CLI on top
// of the loaded Config. The result is checked with struct validation before
// it is returned.
//
//	reader:
//	  sheet_name: Orders
//	  header_row: 3
//	  data_row: 4
//	import:
//	  database: imports.db
//	  batch_size: 500
//	  filter: 'row["Status"] != "void"'
//	  policies: [policies/]
//	  required_columns: [Order ID, Amount]
//	  fail_on_violation: true
//	sftp:
//	  user: etl
//	  private_key_path: /etc/fastexcel/id_ed25519
//	telemetry:
//	  metrics:
//	    enabled: true
package config
