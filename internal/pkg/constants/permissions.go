package constants

// Permission names used by the authorization middleware.
const (
	ViewData            = "VIEW_DATA"
	Invest              = "INVEST"
	Withdraw            = "WITHDRAW"
	RegisterAsset       = "REGISTER_ASSET"
	CreatePool          = "CREATE_POOL"
	ManagePool          = "MANAGE_POOL"
	DistributeDividends = "DISTRIBUTE_DIVIDENDS"
	PinDocument         = "PIN_DOCUMENT"
	ManageUsers         = "MANAGE_USERS"
)

// PermissionRoles maps each permission to the roles allowed to perform it.
var PermissionRoles = map[string][]string{
	ViewData:            {Investor, AssetOwner, Admin, Superadmin},
	Invest:              {Investor, AssetOwner, Admin, Superadmin},
	Withdraw:            {Investor, AssetOwner, Admin, Superadmin},
	RegisterAsset:       {AssetOwner, Admin, Superadmin},
	CreatePool:          {AssetOwner, Admin, Superadmin},
	ManagePool:          {AssetOwner, Admin, Superadmin},
	DistributeDividends: {Admin, Superadmin},
	PinDocument:         {AssetOwner, Admin, Superadmin},
	ManageUsers:         {Admin, Superadmin},
}

// AllowedRole returns true if role is in the list of allowed roles for the permission.
func AllowedRole(permission, role string) bool {
	roles, ok := PermissionRoles[permission]
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
