package assets

import (
	"io"

	assetsvc "wekeza-backend/internal/application/assets"
	uploadsvc "wekeza-backend/internal/application/uploads"
	"wekeza-backend/internal/middleware"
	"wekeza-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Handlers struct {
	Service *assetsvc.Service
	Pinner  *uploadsvc.Service
}

type registerAssetRequest struct {
	ChainAddress string  `json:"chain_address"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Category     string  `json:"category"`
	DocumentCID  *string `json:"document_cid"`
}

// RegisterAsset POST /api/v1/assets/register-asset
func (h *Handlers) RegisterAsset(c *fiber.Ctx) error {
	actor := getActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	var req registerAssetRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "chain_address and name are required", 400, nil)
	}
	if req.ChainAddress == "" || req.Name == "" {
		return response.Error(c, "chain_address and name are required", 400, nil)
	}
	ownerID, err := uuid.Parse(actor.UserID)
	if err != nil {
		return response.Unauthorized(c, "Unauthorized")
	}

	asset, err := h.Service.RegisterAsset(c.Context(), assetsvc.RegisterAssetInput{
		OwnerID:      ownerID,
		ChainAddress: req.ChainAddress,
		Name:         req.Name,
		Description:  req.Description,
		Category:     req.Category,
		DocumentCID:  req.DocumentCID,
	})
	if err != nil {
		return response.Failure(c, err)
	}
	return response.SuccessCreated(c, "Asset registered", asset, nil)
}

// ViewAsset GET /api/v1/assets/view-asset/:id
func (h *Handlers) ViewAsset(c *fiber.Ctx) error {
	assetID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "Invalid asset id", 400, nil)
	}
	asset, err := h.Service.ViewAsset(c.Context(), assetID)
	if err != nil {
		return response.Failure(c, err)
	}
	return response.Success(c, "Asset retrieved", asset, nil)
}

// ViewOwnerAssets GET /api/v1/assets/view-owner-assets
func (h *Handlers) ViewOwnerAssets(c *fiber.Ctx) error {
	actor := getActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	ownerID, err := uuid.Parse(actor.UserID)
	if err != nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	list, err := h.Service.ViewOwnerAssets(c.Context(), ownerID)
	if err != nil {
		return response.Error(c, "Internal Server Error", 500, nil)
	}
	return response.Success(c, "Assets retrieved", list, nil)
}

// PinDocument POST /api/v1/assets/pin-document — multipart file + asset_id.
// Pins the document to IPFS and stores the CID on the asset.
func (h *Handlers) PinDocument(c *fiber.Ctx) error {
	actor := getActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	ownerID, err := uuid.Parse(actor.UserID)
	if err != nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	assetID, err := uuid.Parse(c.FormValue("asset_id"))
	if err != nil {
		return response.Error(c, "asset_id is required", 400, nil)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return response.Error(c, "file is required", 400, nil)
	}
	if fh.Size > uploadsvc.MaxDocumentBytes {
		return response.Error(c, "File is too large", 413, nil)
	}
	f, err := fh.Open()
	if err != nil {
		return response.Error(c, "Could not read file", 400, nil)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return response.Error(c, "Could not read file", 400, nil)
	}

	res, err := h.Pinner.PinDocument(c.Context(), fh.Filename, content)
	if err != nil {
		log.Error().Err(err).Str("asset_id", assetID.String()).Msg("document pin failed")
		return response.Error(c, "Failed to pin document", 502, nil)
	}

	if err := h.Service.AttachDocument(c.Context(), ownerID, assetID, res.CID); err != nil {
		return response.Failure(c, err)
	}
	return response.Success(c, "Document pinned", res, nil)
}

type actor struct {
	UserID string
	Role   string
}

func getActor(c *fiber.Ctx) *actor {
	u := middleware.GetUser(c)
	if u == nil {
		return nil
	}
	m, ok := u.(map[string]interface{})
	if !ok {
		return nil
	}
	userID, _ := m["user_id"].(string)
	if userID == "" {
		return nil
	}
	role, _ := m["role"].(string)
	return &actor{UserID: userID, Role: role}
}
