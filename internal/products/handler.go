package products

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/bitelynk/internal/domain"
	"github.com/joao-fontenele/bitelynk/internal/media"
	"github.com/joao-fontenele/bitelynk/internal/respond"
)

const maxUploadBytes = 5 << 20

type Store interface {
	List(ctx context.Context) ([]domain.Product, error)
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	Create(ctx context.Context, p *domain.Product) error
	Update(ctx context.Context, p *domain.Product) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	IncrementHearts(ctx context.Context, id string) (int, error)
}

type ImageStore interface {
	Upload(ctx context.Context, file io.Reader, filename string) (media.Image, error)
	Delete(ctx context.Context, publicID string) error
}

type Handler struct {
	store  Store
	images ImageStore
	logger *slog.Logger
}

func NewHandler(store Store, images ImageStore, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		images: images,
		logger: logger,
	}
}

type listResponse struct {
	Success  bool             `json:"success"`
	Count    int              `json:"count"`
	Products []domain.Product `json:"products"`
}

type productResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Product *domain.Product `json:"product"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Server error", "")
		return
	}

	h.writeJSON(w, http.StatusOK, listResponse{Success: true, Count: len(products), Products: products})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	product, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "product_id", id)
		h.writeError(w, http.StatusInternalServerError, "Server error", "")
		return
	}
	if product == nil {
		h.writeError(w, http.StatusNotFound, "Product not found", "")
		return
	}

	h.writeJSON(w, http.StatusOK, productResponse{Success: true, Product: product})
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid form data", err.Error())
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	description := strings.TrimSpace(r.FormValue("description"))
	category := strings.TrimSpace(r.FormValue("category"))
	rawPrice := strings.TrimSpace(r.FormValue("price"))
	if name == "" || description == "" || category == "" || rawPrice == "" {
		h.writeError(w, http.StatusBadRequest, "All fields are required", "")
		return
	}

	product := &domain.Product{Name: name, Description: description, Category: category}

	var msg string
	if product.Price, msg = parsePrice(rawPrice); msg != "" {
		h.writeError(w, http.StatusBadRequest, msg, "")
		return
	}
	if msg = applyCounters(r, product); msg != "" {
		h.writeError(w, http.StatusBadRequest, msg, "")
		return
	}

	img, uploaded, err := h.uploadImage(r)
	if err != nil {
		h.logger.Error("failed to upload product image", "error", err)
		h.writeError(w, http.StatusBadRequest, "Image upload failed", err.Error())
		return
	}
	if uploaded {
		product.ImageURL = img.URL
		product.ImagePublicID = img.PublicID
	}

	if err := h.store.Create(r.Context(), product); err != nil {
		h.discardImage(r.Context(), product.ImagePublicID)
		if errors.Is(err, ErrDuplicateName) {
			h.writeError(w, http.StatusConflict, "Product with this name already exists", "")
			return
		}
		h.logger.Error("failed to create product", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Server error", "")
		return
	}

	h.logger.Info("product created", "product_id", product.ID, "name", product.Name)
	h.writeJSON(w, http.StatusCreated, productResponse{
		Success: true,
		Message: "Product created successfully",
		Product: product,
	})
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := parseForm(w, r); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid form data", err.Error())
		return
	}

	product, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "product_id", id)
		h.writeError(w, http.StatusInternalServerError, "Server error", "")
		return
	}
	if product == nil {
		h.writeError(w, http.StatusNotFound, "Product not found", "")
		return
	}

	if v := strings.TrimSpace(r.FormValue("name")); v != "" {
		product.Name = v
	}
	if v := strings.TrimSpace(r.FormValue("description")); v != "" {
		product.Description = v
	}
	if v := strings.TrimSpace(r.FormValue("category")); v != "" {
		product.Category = v
	}
	if v := strings.TrimSpace(r.FormValue("price")); v != "" {
		var msg string
		if product.Price, msg = parsePrice(v); msg != "" {
			h.writeError(w, http.StatusBadRequest, msg, "")
			return
		}
	}
	if msg := applyCounters(r, product); msg != "" {
		h.writeError(w, http.StatusBadRequest, msg, "")
		return
	}

	img, uploaded, err := h.uploadImage(r)
	if err != nil {
		h.logger.Error("failed to upload product image", "error", err, "product_id", id)
		h.writeError(w, http.StatusBadRequest, "Image upload failed", err.Error())
		return
	}
	previousImage := product.ImagePublicID
	if uploaded {
		product.ImageURL = img.URL
		product.ImagePublicID = img.PublicID
	}

	found, err := h.store.Update(r.Context(), product)
	if err != nil || !found {
		if uploaded {
			h.discardImage(r.Context(), img.PublicID)
		}
		switch {
		case errors.Is(err, ErrDuplicateName):
			h.writeError(w, http.StatusConflict, "Product with this name already exists", "")
		case err != nil:
			h.logger.Error("failed to update product", "error", err, "product_id", id)
			h.writeError(w, http.StatusInternalServerError, "Server error", "")
		default:
			h.writeError(w, http.StatusNotFound, "Product not found", "")
		}
		return
	}

	if uploaded {
		h.discardImage(r.Context(), previousImage)
	}

	h.logger.Info("product updated", "product_id", product.ID)
	h.writeJSON(w, http.StatusOK, productResponse{
		Success: true,
		Message: "Product updated successfully",
		Product: product,
	})
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	product, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "product_id", id)
		h.writeError(w, http.StatusInternalServerError, "Server error", "")
		return
	}
	if product == nil {
		h.writeError(w, http.StatusNotFound, "Product not found", "")
		return
	}

	h.discardImage(r.Context(), product.ImagePublicID)

	if _, err := h.store.Delete(r.Context(), id); err != nil {
		h.logger.Error("failed to delete product", "error", err, "product_id", id)
		h.writeError(w, http.StatusInternalServerError, "Server error", "")
		return
	}

	h.logger.Info("product deleted", "product_id", id)
	h.writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Product deleted successfully"})
}

type heartResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Hearts  int    `json:"hearts"`
}

func (h *Handler) HandleHeart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	hearts, err := h.store.IncrementHearts(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(w, http.StatusNotFound, "Product not found", "")
			return
		}
		h.logger.Error("failed to heart product", "error", err, "product_id", id)
		h.writeError(w, http.StatusInternalServerError, "Server error", "")
		return
	}

	h.writeJSON(w, http.StatusOK, heartResponse{Success: true, ID: id, Hearts: hearts})
}

// uploadImage forwards the optional "image" form file to the media host.
func (h *Handler) uploadImage(r *http.Request) (media.Image, bool, error) {
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return media.Image{}, false, nil
	}
	if err != nil {
		return media.Image{}, false, err
	}
	defer func() { _ = file.Close() }()

	img, err := h.images.Upload(r.Context(), file, header.Filename)
	if err != nil {
		return media.Image{}, false, err
	}
	return img, true, nil
}

// discardImage removes an image that is no longer referenced. Failures only
// leave an orphan on the media host, so they are logged and swallowed.
func (h *Handler) discardImage(ctx context.Context, publicID string) {
	if publicID == "" {
		return
	}
	if err := h.images.Delete(ctx, publicID); err != nil {
		h.logger.Warn("failed to delete product image", "error", err, "public_id", publicID)
	}
}

func parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1<<20)
	err := r.ParseMultipartForm(maxUploadBytes)
	if errors.Is(err, http.ErrNotMultipart) {
		return r.ParseForm()
	}
	return err
}

func parsePrice(raw string) (decimal.Decimal, string) {
	price, err := decimal.NewFromString(raw)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, "Price must be a valid positive number"
	}
	return price.Round(2), ""
}

func applyCounters(r *http.Request, p *domain.Product) string {
	if v := strings.TrimSpace(r.FormValue("rating")); v != "" {
		rating, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return "Rating must be a valid number"
		}
		p.Rating = rating
	}
	if v := strings.TrimSpace(r.FormValue("hearts")); v != "" {
		hearts, err := strconv.Atoi(v)
		if err != nil || hearts < 0 {
			return "Hearts must be a valid number"
		}
		p.Hearts = hearts
	}
	return ""
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	if err := respond.JSON(w, status, data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, detail string) {
	if err := respond.Error(w, status, message, detail); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
