package engine

import (
	"context"

	"github.com/hmonster013/ecommerce-microservice-sub008/clients"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/models"
)

// ProductInventory adapts the product client to the engine's Inventory
// port.
type ProductInventory struct {
	Client *clients.ProductClient
}

func (p ProductInventory) Reserve(ctx context.Context, o *models.Order) error {
	req := clients.InventoryRequest{OrderID: o.ID}
	for _, item := range o.Items {
		req.Items = append(req.Items, clients.InventoryItem{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
		})
	}
	return p.Client.ReserveInventory(ctx, req)
}

func (p ProductInventory) Release(ctx context.Context, orderID int64) error {
	return p.Client.ReleaseInventory(ctx, orderID)
}
