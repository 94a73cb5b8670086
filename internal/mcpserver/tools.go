package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Pactum MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCreatePayment = mcp.NewTool("create_payment",
	mcp.WithDescription(
		"Create an escrow payment on Pactum with yourself as payer. "+
			"The payee's share above the custody percent is paid out up front when the deposit "+
			"arrives; the rest is locked in custody for the custody period. "+
			"Returns the payment id and the CLABE to deposit into."),
	mcp.WithString("payee_email",
		mcp.Required(),
		mcp.Description("Email of the party receiving the payment")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Total amount in MXN as a decimal string (e.g. '1500.00')")),
	mcp.WithString("custody_percent",
		mcp.Description("Percent of the amount held in custody (e.g. '50.00'). Defaults to the platform's standard split.")),
	mcp.WithNumber("custody_days",
		mcp.Description("Days the custody portion stays locked before auto-release")),
	mcp.WithString("type",
		mcp.Description("Payment type: 'standard' (custody auto-releases when the window ends) or 'dual_approval' (both parties must approve)"),
		mcp.Enum("standard", "dual_approval")),
	mcp.WithBoolean("multisig",
		mcp.Description("Route the custody release through the multisig approval wallet")),
)

var ToolGetPaymentStatus = mcp.NewTool("get_payment_status",
	mcp.WithDescription(
		"Get the current status of a Pactum payment: its lifecycle state, "+
			"custody summary (locked amount, release date, on-chain tx), and full event history."),
	mcp.WithString("payment_id",
		mcp.Required(),
		mcp.Description("The payment id (e.g. 'pay_...')")),
)

var ToolApprovePayment = mcp.NewTool("approve_payment",
	mcp.WithDescription(
		"Approve a dual-approval payment as payer or payee. "+
			"Custody releases once both parties have approved."),
	mcp.WithString("payment_id",
		mcp.Required(),
		mcp.Description("The payment id (e.g. 'pay_...')")),
	mcp.WithString("party",
		mcp.Required(),
		mcp.Description("Which side you are approving as"),
		mcp.Enum("payer", "payee")),
)

var ToolOpenDispute = mcp.NewTool("open_dispute",
	mcp.WithDescription(
		"Raise a dispute against a payment. All custody releases freeze until an "+
			"operator resolves the dispute. Use this when the goods or services were "+
			"not delivered as agreed."),
	mcp.WithString("payment_id",
		mcp.Required(),
		mcp.Description("The payment id (e.g. 'pay_...')")),
	mcp.WithString("reason",
		mcp.Required(),
		mcp.Description("Explanation of what went wrong")),
)

var ToolGetYield = mcp.NewTool("get_yield",
	mcp.WithDescription(
		"Get the yield accrued on a payment's custody while it sits locked. "+
			"Shows the principal, daily earnings to date, and the annual rate in use."),
	mcp.WithString("payment_id",
		mcp.Required(),
		mcp.Description("The payment id (e.g. 'pay_...')")),
)

var ToolGetReleaseRequest = mcp.NewTool("get_release_request",
	mcp.WithDescription(
		"Get a multisig release request: its destination, amount, nonce, status, "+
			"and the signatures collected so far against the wallet's threshold."),
	mcp.WithString("request_id",
		mcp.Required(),
		mcp.Description("The release request id (e.g. 'msr_...')")),
)

var ToolSignRelease = mcp.NewTool("sign_release",
	mcp.WithDescription(
		"Submit an owner signature on a multisig release request. "+
			"The release executes automatically once the wallet's signature threshold is met."),
	mcp.WithString("request_id",
		mcp.Required(),
		mcp.Description("The release request id (e.g. 'msr_...')")),
	mcp.WithString("signer",
		mcp.Required(),
		mcp.Description("Your owner address on the multisig wallet (e.g. '0x...')")),
	mcp.WithString("signature",
		mcp.Required(),
		mcp.Description("Your 65-byte hex signature over the release digest")),
)
